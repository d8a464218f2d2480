package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"

	"github.com/matt0x6f/cascade-core/internal/config"
	"github.com/matt0x6f/cascade-core/internal/logger"
	"github.com/matt0x6f/cascade-core/internal/storage"
)

// set via linker flags
var version = "dev"

func main() {
	usage := `cascade.
Usage:
	cascade run [--conf <filename>] [--network <name>] [--debug]
	cascade history <network> <target> [--conf <filename>] [--limit <n>]
	cascade check [--conf <filename>]
	cascade -h | --help
	cascade --version
Options:
	--conf <filename>  Configuration file to use [default: cascade.yaml].
	--network <name>   Only connect to this network.
	--limit <n>        Number of lines to show [default: 50].
	--debug            Log protocol traffic.
	-h --help          Show this screen.
	--version          Show version.`

	arguments, _ := docopt.ParseArgs(usage, nil, "cascade "+version)

	cfg, err := config.Load(arguments["--conf"].(string))
	if err != nil {
		log.Fatal("Config file did not load successfully: ", err.Error())
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal("Invalid log level: ", cfg.Log.Level)
	}
	if arguments["--debug"] == true {
		level = zerolog.TraceLevel
	}
	logger.SetLevel(level)

	switch {
	case arguments["check"] == true:
		fmt.Printf("%s: %d network(s) configured\n", cfg.Source, len(cfg.Networks))
	case arguments["history"] == true:
		limit, err := strconv.Atoi(arguments["--limit"].(string))
		if err != nil || limit <= 0 {
			log.Fatal("--limit must be a positive number")
		}
		if err := showHistory(cfg, arguments["<network>"].(string), arguments["<target>"].(string), limit); err != nil {
			log.Fatal(err)
		}
	case arguments["run"] == true:
		network, _ := arguments["--network"].(string)
		if err := run(cfg, network); err != nil {
			log.Fatal(err)
		}
	}
}

func run(cfg *config.Config, network string) error {
	console := NewConsole(os.Stdout)
	app, err := NewApp(cfg, console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.startup(ctx, network); err != nil {
		app.shutdown("")
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	reason := "Leaving"
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			exit, err := app.SendCommand(sendCtx, line)
			cancel()
			if err != nil {
				console.Println("error: " + err.Error())
			}
			if exit {
				break loop
			}
		}
	}

	app.shutdown(reason)
	return nil
}

// showHistory prints stored messages without connecting
func showHistory(cfg *config.Config, network, target string, limit int) error {
	dbPath := filepath.Join(cfg.DataDir, "cascade.db")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no history at %s", dbPath)
	}
	stor, err := storage.NewStorage(dbPath, 1, time.Second)
	if err != nil {
		return err
	}
	defer stor.Close()

	msgs, err := stor.GetMessages(network, target, limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Println(formatHistory(m))
	}
	return nil
}
