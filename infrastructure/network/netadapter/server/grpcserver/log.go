package grpcserver

import (
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/util/panics"
)

var log = logger.RegisterSubSystem("GRPC")
var spawn = panics.GoroutineWrapperFunc(log)
