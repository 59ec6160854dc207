package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/natehak/SteamGroupChatBot/partyline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = partyline.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "partyline [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("channels_file", partyline.DefaultChannelsFile)
	viper.SetDefault("users_file", partyline.DefaultUsersFile)
	viper.SetDefault("settings_file", partyline.DefaultSettingsFile)
	viper.SetDefault("log_dir", partyline.DefaultLogDir)

	viper.SetDefault("retry_delay", partyline.DefaultRetryDelay)
	viper.SetDefault("poll_interval", partyline.DefaultPollInterval)
	viper.SetDefault("sends_per_second", partyline.DefaultSendsPerSecond)
	viper.SetDefault("send_burst", partyline.DefaultSendBurst)
	viper.SetDefault("shutdown_timeout", partyline.DefaultShutdownTimeout)

	viper.SetDefault("log_level", partyline.DefaultLogLevel.String())
	viper.SetDefault(
		"transport_log_level",
		partyline.DefaultTransportLogLevel.String(),
	)

	// Operator API config
	viper.SetDefault("api.listen", partyline.DefaultAPIListen)
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.log_level", partyline.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", partyline.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		partyline.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", partyline.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", partyline.DefaultIdleTimeout)

	envPrefix := os.Getenv(partyline.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = partyline.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("transport_log_level"))
	if err != nil {
		log.Fatalf("error parsing transport log level: %v", err)
	}
	viper.Set("transport_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
