package forwarding

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("FWRD")
