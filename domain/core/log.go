package core

import (
	"github.com/Menutra/Cache-Cash/infrastructure/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.CACH)
