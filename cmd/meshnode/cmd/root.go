package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "meshnode runs a peer-to-peer content-addressed file distribution node",
	Long: `meshnode listens on a TCP endpoint, dials a configured set of bootstrap
peers, and serves a mesh that replicates published blobs to every connected peer.`,
}

// Execute runs the root command, exiting the process with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./meshnode.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("meshnode")
	}

	viper.SetEnvPrefix("MESHNODE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}
