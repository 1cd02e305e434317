package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-viewer/internal/logging"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/server"
	"github.com/joeblew999/plat-viewer/internal/tiler"
)

// Options defines all CLI flags and env vars for the viewer server.
// Flags: --host, --port, --map-config, --log-level, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_MAP_CONFIG, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	MapConfig    string `doc:"YAML map configuration file (built-in defaults when empty)"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat    string `doc:"Log format: json or console" default:"console"`
	TileCacheMB  int    `doc:"Tile proxy cache size in MiB (0 disables)" default:"64"`
	CorsOrigins  string `doc:"Comma-separated origins allowed to fetch /tiles (empty allows any)"`
	ProxyTiles   bool   `doc:"Load every tile through the server's /tiles proxy"`
	TemplatesDir string `doc:"Load page templates from this directory instead of the built-in ones"`
}

func newServer(opts *Options, log *zap.Logger) (*server.Server, error) {
	cfg, err := mapconfig.Load(opts.MapConfig)
	if err != nil {
		return nil, err
	}
	var origins []string
	for _, o := range strings.Split(opts.CorsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return server.New(server.Config{
		Host:           opts.Host,
		Port:           fmt.Sprintf("%d", opts.Port),
		Map:            cfg,
		TileCacheBytes: int64(opts.TileCacheMB) << 20,
		ProxyTiles:     opts.ProxyTiles,
		CORSOrigins:    origins,
		TemplatesDir:   opts.TemplatesDir,
		Logger:         log,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log, err := logging.New(opts.LogLevel, opts.LogFormat)
		if err != nil {
			fatal("Error creating logger: %v", err)
		}
		srv, err := newServer(opts, log)
		if err != nil {
			fatal("Error: %v", err)
		}

		addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			log.Info("plat-viewer starting",
				zap.String("addr", addr),
				zap.String("viewer", baseURL+"/viewer"),
				zap.String("docs", baseURL+"/docs"),
				zap.String("openapi", baseURL+"/openapi.json"),
				zap.Bool("proxy_tiles", opts.ProxyTiles),
			)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn("shutdown", zap.Error(err))
			}
			if err := srv.Close(); err != nil {
				log.Warn("close tile source", zap.Error(err))
			}
			_ = log.Sync()
		})
	})

	cli.Root().Use = "viewer"
	cli.Root().Short = "Server-driven web map viewer"
	cli.Root().Version = server.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts, zap.NewNop())
			if err != nil {
				fatal("Error: %v", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// config subcommand: print the effective map configuration
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective map configuration as YAML",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg, err := mapconfig.Load(opts.MapConfig)
			if err != nil {
				fatal("Error: %v", err)
			}
			out, err := cfg.YAML()
			if err != nil {
				fatal("Error marshaling config: %v", err)
			}
			fmt.Print(string(out))
		}),
	}
	cli.Root().AddCommand(configCmd)

	// pack subcommand: build a PMTiles archive from a z/x/y tile directory
	packCmd := &cobra.Command{
		Use:   "pack <tile-dir> <out.pmtiles>",
		Short: "Pack a z/x/y raster tile directory into a PMTiles archive",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			log, err := logging.New(opts.LogLevel, opts.LogFormat)
			if err != nil {
				fatal("Error creating logger: %v", err)
			}
			defer log.Sync()

			name, _ := cmd.Flags().GetString("name")
			attribution, _ := cmd.Flags().GetString("attribution")
			res, err := tiler.PackDir(cmd.Context(), args[0], args[1], tiler.PackOptions{
				Name:        name,
				Attribution: attribution,
				Logger:      log,
				OnProgress: func(progress int, status string) {
					log.Info(status, zap.Int("progress", progress))
				},
			})
			if err != nil {
				fatal("Error: %v", err)
			}
			fmt.Printf("%d tiles (%d unique) z%d-z%d, %s\n",
				res.Tiles, res.Contents, res.MinZoom, res.MaxZoom, humanize.IBytes(uint64(res.Bytes)))
		}),
	}
	packCmd.Flags().String("name", "", "Archive name stored in the metadata")
	packCmd.Flags().String("attribution", "", "Attribution stored in the metadata")
	cli.Root().AddCommand(packCmd)

	cli.Run()
}
