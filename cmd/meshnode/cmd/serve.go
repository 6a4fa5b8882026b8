package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/colibri-net/meshstore/hash"
	"github.com/colibri-net/meshstore/node"
	"github.com/colibri-net/meshstore/store"
	"github.com/colibri-net/meshstore/wire"
)

const (
	listenAddrKey   = "meshnode.listen_addr"
	bootstrapKey    = "meshnode.bootstrap"
	storageRootKey  = "meshnode.storage_root"
	maxFrameSizeKey = "meshnode.max_frame_size"
	transformKey    = "meshnode.transform"
	compressKey     = "meshnode.compress"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts a meshnode instance based on flags or ./meshnode.yaml",
	Long: `serve starts a meshnode instance.

The following keys may be set via flag, environment (MESHNODE_*), or
./meshnode.yaml:

  meshnode.listen_addr    TCP address to bind, e.g. 127.0.0.1:3000
  meshnode.bootstrap      list of peer addresses dialed at startup
  meshnode.storage_root   directory blobs are persisted under
  meshnode.max_frame_size maximum wire frame size in bytes (default 16 MiB)
  meshnode.transform      "flat" or "cas" key-to-path transform (default "cas")
  meshnode.compress       zstd-compress blobs at rest
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "127.0.0.1:3000", "TCP address to bind")
	serveCmd.Flags().StringSlice("bootstrap", nil, "bootstrap peer addresses")
	serveCmd.Flags().String("storage-root", "meshstore-data", "directory blobs are persisted under")
	serveCmd.Flags().Uint32("max-frame-size", 0, "maximum wire frame size in bytes (0 = default 16 MiB)")
	serveCmd.Flags().String("transform", "cas", `key-to-path transform: "flat" or "cas"`)
	serveCmd.Flags().Bool("compress", false, "zstd-compress blobs at rest")

	_ = viper.BindPFlag(listenAddrKey, serveCmd.Flags().Lookup("listen-addr"))
	_ = viper.BindPFlag(bootstrapKey, serveCmd.Flags().Lookup("bootstrap"))
	_ = viper.BindPFlag(storageRootKey, serveCmd.Flags().Lookup("storage-root"))
	_ = viper.BindPFlag(maxFrameSizeKey, serveCmd.Flags().Lookup("max-frame-size"))
	_ = viper.BindPFlag(transformKey, serveCmd.Flags().Lookup("transform"))
	_ = viper.BindPFlag(compressKey, serveCmd.Flags().Lookup("compress"))

	rootCmd.AddCommand(serveCmd)
}

func pathTransform(name string) (hash.PathTransform, error) {
	switch name {
	case "", "cas":
		return hash.CASPathTransform, nil
	case "flat":
		return hash.FilenameTransform, nil
	default:
		return nil, fmt.Errorf("unknown transform %q (want \"flat\" or \"cas\")", name)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	runID := uuid.New().String()
	log := logrus.StandardLogger()
	log.WithField("run_id", runID).Info("starting meshnode")

	transform, err := pathTransform(viper.GetString(transformKey))
	if err != nil {
		return err
	}

	maxFrame := uint32(viper.GetUint32(maxFrameSizeKey))

	n := node.New(node.Options{
		ListenAddr:     viper.GetString(listenAddrKey),
		BootstrapNodes: viper.GetStringSlice(bootstrapKey),
		StoreOpts: store.Opts{
			Root:      viper.GetString(storageRootKey),
			Transform: transform,
			Compress:  viper.GetBool(compressKey),
			Log:       log,
		},
		Decoder: wire.LengthPrefixedDecoder{MaxFrameSize: maxFrame},
		Log:     log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- n.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
		n.Shutdown()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
