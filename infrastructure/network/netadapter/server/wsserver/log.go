package wsserver

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("WSSV")
var spawn = panics.GoroutineWrapperFunc(log)
