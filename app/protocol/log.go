package protocol

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("PROT")
var spawn = panics.GoroutineWrapperFunc(log)
