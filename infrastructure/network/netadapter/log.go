package netadapter

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("NTAR")
var spawn = panics.GoroutineWrapperFunc(log)
