package env

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// ReadConfigFile overlays the optional YAML config file on top of conf.
// Without an explicit path "msnp.yaml" is looked up in the working directory
// and in $HOME/.config/msnp, finding none is not an error.
func ReadConfigFile(conf *Config, path string) error {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("msnp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/msnp")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}

		return err
	}

	if v.IsSet("account") {
		conf.Account = strings.TrimSpace(v.GetString("account"))
	}

	if v.IsSet("password") {
		conf.Password = v.GetString("password")
	}

	if v.IsSet("dispatch_server") {
		conf.DispatchServer = strings.TrimSpace(v.GetString("dispatch_server"))
	}

	if v.IsSet("status") {
		conf.Status = v.GetString("status")
	}

	if v.IsSet("versions") {
		conf.Versions = v.GetStringSlice("versions")
	}

	if v.IsSet("nexus_url") {
		conf.NexusURL = v.GetString("nexus_url")
	}

	if v.IsSet("transaction_timeout") {
		conf.TransactionTimeout = v.GetDuration("transaction_timeout")
	}

	if v.IsSet("keepalive") {
		conf.KeepAlive = v.GetDuration("keepalive")
	}

	if v.IsSet("store.kind") {
		conf.Store = v.GetString("store.kind")
	}

	if v.IsSet("store.path") {
		conf.StorePath = v.GetString("store.path")
	}

	if v.IsSet("http.port") {
		conf.HTTPPort = v.GetString("http.port")
	}

	if v.IsSet("http.debug") {
		conf.DebugHTTP = v.GetBool("http.debug")
	}

	if v.IsSet("log_level") {
		conf.LogLevel = v.GetString("log_level")
	}

	return nil
}
