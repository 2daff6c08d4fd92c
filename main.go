package main

import (
	"encoding/base64"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"git.fiblab.net/sim/syncer/v3"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-signal/task"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

var (
	// 分布式模式syncer地址，如果设置为空则激活独立部署模式
	// 独立部署：不需要syncer，不向其他服务提供受保护的RPC访问
	syncerAddr = flag.String("syncer", "", "syncer address (empty means standalone mode), e.g. http://localhost:53001")
	// 模拟任务名
	job = flag.String("job", "job0", "the name of the whole simulation task")
	// 本程序监听的gRPC地址
	grpcAddr = flag.String("listen", ":51103", "gRPC listening address")
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")
	// 地图input的缓存地址，设置为空则禁用缓存功能
	cacheDir = flag.String("cache", "data/", "input cache dir path (empty means disable cache)")
	// prometheus指标监听地址，设置为空则不启动
	metricsAddr = flag.String("metrics", "", "metrics listening address (empty means disabled), e.g. :9100")
	// 覆盖配置中的控制步数
	steps = flag.Int("steps", 0, "override control.step.total (0 means use config)")
	// 关闭紧急优先
	noPreemption = flag.Bool("no-preemption", false, "disable emergency vehicle preemption")
	// debug
	debugTLS = flag.String("debug-tls", "", "intersection id whose topology and demand are dumped at debug level every 10 steps")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "signal")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// log: 运行时才修改
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	// 获取配置
	var file []byte
	var err error
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	}
	// 两者都未给出时使用默认配置
	c, err := config.Load(file)
	if err != nil {
		log.Panicf("config file load err: %v", err)
	}
	if *steps > 0 {
		c.Control.Step.Total = int32(*steps)
	}
	if *noPreemption {
		c.Preemption.Enabled = false
	}
	log.Infof("%+v", c)

	if *metricsAddr != "" {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sidecar := syncer.NewSidecar(task.SelfName, *grpcAddr, *syncerAddr)
	t := task.NewContext(*job, *cacheDir, c, sidecar, true)
	if *debugTLS != "" {
		t.DebugIntersection(*debugTLS)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("received %v, stopping after the current step", sig)
		t.Stop()
	}()

	t.Run()
}
