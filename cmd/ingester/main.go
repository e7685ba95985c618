package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"txfeed-sol/internal/config"
	"txfeed-sol/internal/svc"
	"txfeed-sol/pkg/logger"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/ingester.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.IngesterConfig
	conf.MustLoad(*configFile, &c)

	logger.Init(c.LogConf.ToLogOption())
	defer logger.Sync()
	logger.Infof("effective config:\n%s", config.Dump(c))

	serviceContext, err := svc.NewIngesterContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	sg := zerosvc.NewServiceGroup()
	for _, s := range serviceContext.Services {
		sg.Add(s)
	}

	logx.Infof("Starting ingester services")
	sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}
