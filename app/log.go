package app

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("RLYD")
