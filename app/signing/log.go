package signing

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("SIGN")
