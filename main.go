package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mensetian/LimaPrint/adapter"
	"github.com/mensetian/LimaPrint/link"
	"github.com/mensetian/LimaPrint/server"
)

func main() {
	// Initialize Viper to read from environment variables
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_ADDRESS", "localhost:9100")
	viper.SetDefault("TRANSPORT", "bluez")
	viper.SetDefault("CHUNK_SIZE", link.DefaultChunkSize)
	viper.SetDefault("CHUNK_DELAY_MS", int(link.DefaultChunkDelay/time.Millisecond))
	viper.SetDefault("CONNECT_TIMEOUT_MS", int(link.DefaultConnectTimeout/time.Millisecond))
	viper.SetDefault("CONNECT_RETRIES", link.DefaultConnectRetries)
	viper.SetDefault("KEEP_ALIVE", true)

	logger := logrus.New()
	if logFile := viper.GetString("LOG_FILE"); logFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	printerAddress := viper.GetString("PRINTER_ADDRESS")
	if printerAddress == "" {
		logger.Fatal("PRINTER_ADDRESS must be set")
	}

	transport := viper.GetString("TRANSPORT")
	provider, err := radioProvider(transport)
	if err != nil {
		logger.WithError(err).Fatal("bad transport configuration")
	}

	manager := link.New(provider, logger)
	if err := manager.Init(); err != nil {
		logger.WithError(err).Fatal("radio initialization failed")
	}
	if !manager.IsEnabled() {
		logger.Warn("radio is powered off; prints will fail until it is enabled")
	}

	if printers, err := manager.ListCandidateDevices(); err == nil {
		for _, p := range printers {
			logger.WithFields(logrus.Fields{"name": p.Name, "addr": p.Address}).Info("candidate printer")
		}
	}

	opts := link.TransferOptions{
		KeepAlive:      viper.GetBool("KEEP_ALIVE"),
		ChunkSize:      viper.GetInt("CHUNK_SIZE"),
		ChunkDelay:     time.Duration(viper.GetInt("CHUNK_DELAY_MS")) * time.Millisecond,
		ConnectTimeout: time.Duration(viper.GetInt("CONNECT_TIMEOUT_MS")) * time.Millisecond,
		ConnectRetries: viper.GetInt("CONNECT_RETRIES"),
	}

	svr := server.New(manager, viper.GetString("SERVER_ADDRESS"), printerAddress, opts, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		svr.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.CloseConnection(ctx)
	}()

	if err := svr.Start(); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
}

func radioProvider(transport string) (link.RadioProvider, error) {
	switch transport {
	case "bluez":
		return func() (adapter.Radio, error) { return adapter.NewBluezRadio() }, nil
	case "usb":
		return func() (adapter.Radio, error) { return adapter.NewUSBRadio(), nil }, nil
	default:
		return nil, fmt.Errorf("unknown transport %q, want bluez or usb", transport)
	}
}
