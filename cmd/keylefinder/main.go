package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyle/keylefinder/internal/logger"
	"github.com/keyle/keylefinder/pkg/config"
	"github.com/keyle/keylefinder/pkg/rpc"
	"github.com/keyle/keylefinder/pkg/screen"
	"github.com/keyle/keylefinder/pkg/vision"
	"github.com/keyle/keylefinder/pkg/vision/cv"
	"github.com/keyle/keylefinder/pkg/worker"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitFound    = 0
	exitNotFound = 1
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keylefinder", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printHelp(stderr) }

	var (
		refPath     = fs.String("ref", "", "参考图路径")
		queryPath   = fs.String("query", "", "查询图路径")
		screenMode  = fs.Bool("screen", false, "截屏作为参考图")
		regionStr   = fs.String("region", "", "截屏区域 x,y,w,h")
		shotPath    = fs.String("shot", "", "截屏并保存到文件")
		previewPath = fs.String("preview", "", "调试预览图输出路径")
		ratio       = fs.Float64("ratio", 0, "比率测试阈值")
		threshold   = fs.Float64("threshold", 0, "模板匹配阈值")
		configPath  = fs.String("config", "", "配置文件路径")
		saveConfig  = fs.Bool("save", false, "保存配置到配置文件")
		workerURL   = fs.String("worker", "", "以工作节点模式连接服务端")
		accessKey   = fs.String("access-key", "", "访问密钥")
		secretKey   = fs.String("secret-key", "", "秘密密钥")
		serveAddr   = fs.String("serve", "", "以 gRPC 服务模式监听地址")
		verbose     = fs.Bool("verbose", false, "输出调试日志")
		showVersion = fs.Bool("version", false, "显示版本信息")
		showHelp    = fs.Bool("help", false, "显示帮助信息")
	)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitFound
		}
		return exitUsage
	}

	if *showVersion {
		printVersion(stdout)
		return exitFound
	}
	if *showHelp {
		printHelp(stdout)
		return exitFound
	}

	// 加载配置
	mgr := config.NewManager()
	if *configPath != "" {
		mgr = config.NewManagerWithFile(*configPath)
	}
	cfg, err := mgr.Load()
	if err != nil {
		if *configPath != "" {
			fmt.Fprintf(stderr, "[ERROR] 加载配置失败: %v\n", err)
			return exitUsage
		}
		fmt.Fprintf(stderr, "[WARN] 加载配置失败，使用默认配置: %v\n", err)
	}

	// 命令行参数优先级高于配置文件
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ratio":
			cfg.Locator.Ratio = *ratio
		case "threshold":
			cfg.Locator.TemplateThreshold = *threshold
		case "preview":
			cfg.Locator.PreviewPath = *previewPath
		case "worker":
			cfg.Worker.ServerURL = *workerURL
		case "access-key":
			cfg.Worker.AccessKey = *accessKey
		case "secret-key":
			cfg.Worker.SecretKey = *secretKey
		case "serve":
			cfg.RPC.ListenAddr = *serveAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "[ERROR] 参数无效: %v\n", err)
		return exitUsage
	}

	log := logger.Default()
	if err := log.Configure(logger.Options{
		Enabled: cfg.Log.Enabled,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    cfg.Log.File,
	}); err != nil {
		fmt.Fprintf(stderr, "[WARN] %v\n", err)
	}
	defer log.Close()
	if *verbose {
		log.SetEnabled(true)
		log.SetConsole(stderr)
		log.SetLevel(logger.DEBUG)
	}

	if *saveConfig {
		if err := mgr.Save(cfg); err != nil {
			fmt.Fprintf(stderr, "[WARN] 保存配置失败: %v\n", err)
		} else {
			fmt.Fprintf(stderr, "[INFO] 配置已保存到 %s\n", mgr.GetConfigFile())
		}
	}

	var region *screen.Region
	if *regionStr != "" {
		r, err := screen.ParseRegion(*regionStr)
		if err != nil {
			fmt.Fprintf(stderr, "[ERROR] %v\n", err)
			return exitUsage
		}
		region = &r
	}

	opts := cv.LocatorOptionsFromConfig(cfg.Locator)

	switch {
	case *workerURL != "":
		return runWorker(cfg, opts, stderr)
	case *serveAddr != "":
		return runServe(cfg, opts, stderr)
	case *shotPath != "":
		return runShot(*shotPath, region, stdout, stderr)
	}

	if *queryPath == "" || (*refPath == "" && !*screenMode) {
		fmt.Fprintln(stderr, "[ERROR] 需要 -query，以及 -ref 或 -screen")
		printHelp(stderr)
		return exitUsage
	}

	var res cv.LocateResult
	if *screenMode {
		warnCapturePermission(stderr)
		vopts := []vision.Option{vision.WithLocatorOptions(opts...)}
		if region != nil {
			vopts = append(vopts, vision.WithRegion(*region))
		}
		res, err = vision.LocateScreen(*queryPath, vopts...)
		if err != nil {
			fmt.Fprintf(stderr, "[ERROR] %v\n", err)
			return exitUsage
		}
	} else {
		loc, err := cv.NewLocator(*refPath, opts...)
		if err != nil {
			fmt.Fprintf(stderr, "[ERROR] %v\n", err)
			return exitUsage
		}
		defer loc.Close()
		if loc.Ready() {
			w, h := loc.Size()
			log.Debug("参考图 %s: %dx%d", loc.ReferencePath(), w, h)
		} else {
			fmt.Fprintf(stderr, "[WARN] 参考图无法加载: %s\n", loc.ReferencePath())
		}
		res = loc.Locate(*queryPath)
	}

	fmt.Fprintln(stdout, res.JSON())
	if res.Found() {
		return exitFound
	}
	return exitNotFound
}

// runWorker 以工作节点模式运行直到收到中断信号
func runWorker(cfg *config.Config, opts []cv.LocatorOption, stderr io.Writer) int {
	if cfg.Worker.AccessKey == "" || cfg.Worker.SecretKey == "" {
		fmt.Fprintln(stderr, "[ERROR] 缺少认证信息，请使用 -access-key 和 -secret-key 参数")
		return exitUsage
	}

	fmt.Fprintln(stderr, "========================================")
	fmt.Fprintf(stderr, "  KeyleFinder Worker v%s\n", Version)
	fmt.Fprintln(stderr, "========================================")
	fmt.Fprintf(stderr, "服务端: %s\n", cfg.Worker.ServerURL)
	warnCapturePermission(stderr)

	handler := worker.NewLocateHandler(opts...)
	defer handler.Close()

	clientCfg := worker.DefaultConfig()
	clientCfg.ServerURL = cfg.Worker.ServerURL
	clientCfg.AccessKey = cfg.Worker.AccessKey
	clientCfg.SecretKey = cfg.Worker.SecretKey

	client := worker.NewClient(clientCfg, handler)
	client.SetStatusCallback(func(status worker.ClientStatus) {
		fmt.Fprintf(stderr, "[STATUS] %s\n", status)
	})

	if err := client.Connect(); err != nil {
		fmt.Fprintf(stderr, "[ERROR] 连接失败: %v\n", err)
		return exitUsage
	}
	fmt.Fprintln(stderr, "[INFO] 连接成功，等待任务... 按 Ctrl+C 退出")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(stderr, "[INFO] 正在断开连接...")
	client.Disconnect()
	return exitFound
}

// runServe 以 gRPC 服务模式运行直到收到中断信号
func runServe(cfg *config.Config, opts []cv.LocatorOption, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := worker.NewLocateHandler(opts...)
	defer handler.Close()

	fmt.Fprintf(stderr, "[INFO] gRPC 服务监听 %s，按 Ctrl+C 退出\n", cfg.RPC.ListenAddr)
	if err := rpc.Serve(ctx, cfg.RPC.ListenAddr, rpc.NewServer(handler)); err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitUsage
	}
	return exitFound
}

// runShot 截屏并保存，path 为 "-" 时向 stdout 输出 PNG data URL
func runShot(path string, region *screen.Region, stdout, stderr io.Writer) int {
	warnCapturePermission(stderr)

	if path == "-" {
		dataURL, err := screen.CaptureToBase64(region)
		if err != nil {
			fmt.Fprintf(stderr, "[ERROR] %v\n", err)
			return exitUsage
		}
		fmt.Fprintln(stdout, dataURL)
		return exitFound
	}

	var (
		img image.Image
		err error
	)
	if region != nil {
		img, err = screen.CaptureRegion(*region)
	} else {
		img, err = screen.CaptureScreen()
	}
	if err == nil {
		err = screen.SaveImage(img, path)
	}
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitUsage
	}
	fmt.Fprintf(stderr, "[INFO] 截图已保存到 %s\n", path)
	return exitFound
}

func warnCapturePermission(stderr io.Writer) {
	if !screen.HasCapturePermission() {
		fmt.Fprintf(stderr, "[WARN] %s\n", screen.CapturePermissionHint())
	}
}

// printVersion 打印版本信息
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "KeyleFinder v%s\n", Version)
	fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp(w io.Writer) {
	fmt.Fprintln(w, "KeyleFinder - 子图定位工具")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "用法:")
	fmt.Fprintln(w, "  keylefinder -ref REF -query QUERY [选项]")
	fmt.Fprintln(w, "  keylefinder -screen -query QUERY [-region x,y,w,h] [选项]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "选项:")
	fmt.Fprintln(w, "  -ref string          参考图路径")
	fmt.Fprintln(w, "  -query string        查询图路径")
	fmt.Fprintln(w, "  -screen              截屏作为参考图")
	fmt.Fprintln(w, "  -region string       截屏区域 x,y,w,h")
	fmt.Fprintln(w, "  -shot string         截屏并保存到文件 (png/jpg/bmp/tiff)，- 输出 data URL")
	fmt.Fprintln(w, "  -preview string      调试预览图输出路径")
	fmt.Fprintln(w, "  -ratio float         比率测试阈值 (默认 0.75)")
	fmt.Fprintln(w, "  -threshold float     模板匹配阈值 (默认 0.8)")
	fmt.Fprintln(w, "  -config string       配置文件路径")
	fmt.Fprintln(w, "  -save                保存配置到配置文件")
	fmt.Fprintln(w, "  -worker string       以工作节点模式连接服务端")
	fmt.Fprintln(w, "  -access-key string   访问密钥")
	fmt.Fprintln(w, "  -secret-key string   秘密密钥")
	fmt.Fprintln(w, "  -serve string        以 gRPC 服务模式监听地址")
	fmt.Fprintln(w, "  -verbose             输出调试日志")
	fmt.Fprintln(w, "  -version             显示版本信息")
	fmt.Fprintln(w, "  -help                显示帮助信息")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "输出:")
	fmt.Fprintln(w, `  找到:   {"status":0,"top_left":[x,y],"bottom_right":[x,y],"scale":s}`)
	fmt.Fprintln(w, `  未找到: {"status":1}`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "退出码: 0 找到, 1 未找到, 2 参数或配置错误")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "配置文件位置: %s\n", config.NewManager().GetConfigFile())
}
