package main

import (
	"github.com/Menutra/Cache-Cash/infrastructure/logger"
	"github.com/Menutra/Cache-Cash/util/panics"
)

var cachLog, _ = logger.Get(logger.SubsystemTags.CACH)
var spawn = panics.GoroutineWrapperFunc(cachLog)
