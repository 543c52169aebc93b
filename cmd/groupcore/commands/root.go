package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	debug         bool
	relayURLFlag  string
	installIDFlag string
)

var rootCmd = &cobra.Command{
	Use:   "groupcore",
	Short: "Drive a group messaging core installation from the command line",
	Long: `groupcore is the reference CLI over the group messaging core: create
groups and DMs, send and sync messages, and inspect local state, all
against the relay and identity service configured in config.yaml.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/groupcore/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&relayURLFlag, "relay-url", "", "relay endpoint (overrides config.yaml)")
	rootCmd.PersistentFlags().StringVar(&installIDFlag, "installation-id", "", "this device's installation id (overrides config.yaml)")

	viper.BindPFlag("relay-url", rootCmd.PersistentFlags().Lookup("relay-url"))
	viper.BindPFlag("installation-id", rootCmd.PersistentFlags().Lookup("installation-id"))
}

// initConfig loads an optional viper-managed config file, the same way
// the teacher's root command does, then republishes anything it finds
// as the env vars internal/config.Load already knows how to read. This
// lets --config/--relay-url/--installation-id override config.yaml
// without internal/config needing to know viper exists.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/groupcore")
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("GROUPCORE")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	if url := viper.GetString("relay-url"); url != "" {
		os.Setenv("GROUPCORE_RELAY_URL", url)
	}
	if id := viper.GetString("installation-id"); id != "" {
		os.Setenv("GROUPCORE_INSTALLATION_ID", id)
	}
}
