package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/sudorandom/packet-stream/pkg/config"
	"github.com/sudorandom/packet-stream/pkg/flow"
	"github.com/sudorandom/packet-stream/pkg/flowengine"
	"github.com/sudorandom/packet-stream/pkg/sources"
	"github.com/sudorandom/packet-stream/pkg/utils"
)

var (
	configFlag       = flag.String("config", "", "Optional YAML config file; flags override its values")
	apiURLFlag       = flag.String("api-url", "http://localhost:5000", "Base URL of the packet capture API")
	pollFlag         = flag.Duration("poll-interval", flow.DefaultPollInterval, "How often to fetch packets")
	stepFlag         = flag.Float64("step", flow.DefaultStep, "Fraction of the path covered per 1/60s")
	frameCoupledFlag = flag.Bool("frame-coupled", false, "Advance one step per frame regardless of elapsed time")
	sphereFlag       = flag.String("sphere-policy", "plane", "Where packets sit on the globe: plane or surface")
	seedFlag         = flag.Int64("seed", 0, "Seed for endpoint placement and colors (0 uses the clock)")
	geoipFlag        = flag.String("geoip", "", "MaxMind city database for endpoint placement, or \"download\"")
	listenFlag       = flag.String("listen", "", "Address for the flow/frame API and websocket, e.g. :8080")
	captureDirFlag   = flag.String("capture-dir", "", "Directory to write periodic PNG frame captures to")
	globeFlag        = flag.Bool("globe", true, "Draw the rotating globe inset")
	headlessFlag     = flag.Bool("headless", false, "Run without a local window (Xvfb rendering active)")
	renderWidth      = flag.Int("width", 1920, "Internal rendering width")
	renderHeight     = flag.Int("height", 1080, "Internal rendering height")
	renderScale      = flag.Float64("scale", 300.0, "Internal rendering scale")
	windowWidth      = flag.Int("window-width", 1280, "Initial window width (non-headless only)")
	windowHeight     = flag.Int("window-height", 720, "Initial window height (non-headless only)")
	tpsFlag          = flag.Int("tps", 60, "Ticks per second (engine updates)")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFlag); err != nil {
			return nil, err
		}
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.APIURL = *apiURLFlag
		case "poll-interval":
			cfg.PollInterval = *pollFlag
		case "step":
			cfg.Animation.Step = *stepFlag
		case "frame-coupled":
			cfg.Animation.FrameCoupled = *frameCoupledFlag
		case "sphere-policy":
			cfg.Animation.SpherePolicy = *sphereFlag
		case "seed":
			cfg.Animation.Seed = *seedFlag
		case "geoip":
			cfg.GeoIPDB = *geoipFlag
		case "listen":
			cfg.Listen = *listenFlag
		case "capture-dir":
			cfg.Render.CaptureDir = *captureDirFlag
		case "globe":
			cfg.Render.Globe = *globeFlag
		case "headless":
			cfg.Render.Headless = *headlessFlag
		case "width":
			cfg.Render.Width = *renderWidth
		case "height":
			cfg.Render.Height = *renderHeight
		case "scale":
			cfg.Render.Scale = *renderScale
		case "window-width":
			cfg.Render.WindowWidth = *windowWidth
		case "window-height":
			cfg.Render.WindowHeight = *windowHeight
		case "tps":
			cfg.Render.TPS = *tpsFlag
		}
	})
	return cfg, cfg.Validate()
}

func openLocator(path string) (flow.Locator, error) {
	if path == "" {
		return nil, nil
	}
	if path == "download" {
		var err error
		if path, err = utils.CachedPath(sources.GeoLiteCityURL, "[GEOIP]"); err != nil {
			return nil, err
		}
	}
	return flow.OpenGeoIP(path)
}

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	sc := cfg.SessionConfig()
	if cfg.Animation.Seed != 0 {
		sc.Rand = rand.New(rand.NewSource(cfg.Animation.Seed))
	}
	locator, err := openLocator(cfg.GeoIPDB)
	if err != nil {
		log.Printf("[GEOIP] Falling back to random placement: %v", err)
	} else if locator != nil {
		sc.Locator = locator
		log.Printf("[GEOIP] Placing endpoints with %s", cfg.GeoIPDB)
	}
	session := flow.NewSession(sc)

	var hub *flowengine.FrameHub
	var server *http.Server
	if cfg.Listen != "" {
		hub = flowengine.NewFrameHub()
		server = &http.Server{
			Addr:              cfg.Listen,
			Handler:           flowengine.NewRouter(session, hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[API] Serving flows on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Could not listen on %s: %v", server.Addr, err)
			}
		}()
	}

	engine := flowengine.NewEngine(cfg, session, hub)
	engine.InitPacketTexture()
	if err := engine.LoadData(); err != nil {
		log.Fatalf("Failed to initialize engine data: %v", err)
	}

	// A signal ends the session; the next engine Update then stops the loop.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := engine.Close(); err != nil {
			log.Printf("Error closing session: %v", err)
		}
	}()

	session.Start()

	ebiten.SetTPS(cfg.Render.TPS)
	if cfg.Render.Headless {
		log.Println("Running in HEADLESS mode (Rendering active).")
	} else {
		ebiten.SetWindowSize(cfg.Render.WindowWidth, cfg.Render.WindowHeight)
		ebiten.SetWindowTitle("Packet Flow Viewer")
	}
	runErr := ebiten.RunGame(engine)

	if err := engine.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("API server forced to shutdown: %v", err)
		}
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}
