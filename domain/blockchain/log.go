package blockchain

import (
	"github.com/Menutra/Cache-Cash/infrastructure/logger"
	"github.com/Menutra/Cache-Cash/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.CHAN)
var spawn = panics.GoroutineWrapperFunc(log)
