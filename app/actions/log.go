package actions

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("ACTN")
