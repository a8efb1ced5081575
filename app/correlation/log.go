package correlation

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CORR")
