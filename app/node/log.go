package node

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("NODE")
var spawn = panics.GoroutineWrapperFunc(log)
