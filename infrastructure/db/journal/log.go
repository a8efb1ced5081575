package journal

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("JRNL")
var spawn = panics.GoroutineWrapperFunc(log)
