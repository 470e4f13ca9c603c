package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sudorandom/packet-stream/pkg/packetstore"
	"github.com/sudorandom/packet-stream/pkg/sniffer"
	"github.com/sudorandom/packet-stream/pkg/sources"
	"github.com/sudorandom/packet-stream/pkg/utils"
)

var cli struct {
	Iface     string        `short:"i" help:"Interface to capture on. Defaults to the first interface with an address."`
	Filter    string        `short:"f" help:"BPF filter expression."`
	DB        string        `default:"data/packets.db" help:"Packet store directory. Empty keeps packets in memory."`
	Retention time.Duration `default:"24h" help:"How long captured packets are kept. 0 keeps them forever."`
	Listen    string        `short:"l" default:":5000" help:"Address of the packet API."`
	GeoIP     string        `name:"geoip" help:"MaxMind city database for /api/top_ips, or \"download\"."`
	Methods   []string      `default:"POST,GET,PUT,DELETE,PATCH,HEAD,OPTIONS" help:"HTTP methods that mark a TCP payload as an HTTP packet."`
	NoRawData bool          `help:"Do not store the hex dump of each packet."`
}

func systemInfo() packetstore.SystemInfo {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Error reading hostname: %v", err)
	}
	info := packetstore.SystemInfo{Hostname: hostname}
	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return info
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			info.InternalIP = v4.String()
			break
		}
	}
	return info
}

func openDescriberFrom(path string) (*geoDescriber, error) {
	if path == "download" {
		var err error
		if path, err = utils.CachedPath(sources.GeoLiteCityURL, "[GEOIP]"); err != nil {
			return nil, err
		}
	}
	return openDescriber(path)
}

func main() {
	kong.Parse(&cli,
		kong.Name("packet-capture"),
		kong.Description("Capture IPv4 packets and serve the latest ones over HTTP."),
		kong.UsageOnError(),
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cli.DB != "" {
		if err := os.MkdirAll(cli.DB, 0o755); err != nil {
			log.Fatalf("Failed to create store directory: %v", err)
		}
	}
	store, err := packetstore.Open(cli.DB, cli.Retention)
	if err != nil {
		log.Fatalf("Failed to open packet store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing packet store: %v", err)
		}
	}()
	if err := store.SetSystemInfo(systemInfo()); err != nil {
		log.Printf("Error saving system info: %v", err)
	}

	var describer Describer
	if cli.GeoIP != "" {
		d, err := openDescriberFrom(cli.GeoIP)
		if err != nil {
			log.Printf("[GEOIP] Top IPs will not be located: %v", err)
		} else {
			defer func() { _ = d.Close() }()
			describer = d
		}
	}

	iface := cli.Iface
	if iface == "" {
		if iface, err = sniffer.DefaultInterface(); err != nil {
			log.Fatalf("No interface to capture on: %v", err)
		}
	}
	source, closeHandle, err := sniffer.OpenLive(iface, cli.Filter)
	if err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}
	defer closeHandle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := sniffer.New(cli.Methods...)
	s.KeepRawData = !cli.NoRawData
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		log.Printf("[CAPTURE] Sniffing on %s", iface)
		n, err := s.Run(ctx, source.Packets(), store)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[CAPTURE] Capture stopped: %v", err)
		}
		log.Printf("[CAPTURE] Stored %d packets", n)
	}()
	if cli.Retention > 0 {
		go store.RunGC(10*time.Minute, ctx.Done())
	}

	server := &http.Server{
		Addr:              cli.Listen,
		Handler:           NewRouter(store, describer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Capture server shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	<-captureDone
	log.Println("Capture server exited.")
}
