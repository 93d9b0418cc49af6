package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/repl"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

func main() {
	src := flag.String("src", "", "replica src in hex; opens the replica on start")
	arbiter := flag.String("arbiter", "", "arbiter src in hex, defaults to src")
	dir := flag.String("dir", "", "pebble directory, empty keeps the replica in memory")
	listen := flag.String("listen", "", "address to listen on, e.g. tcp://0.0.0.0:4000")
	connect := flag.String("connect", "", "address to connect to")
	serve := flag.String("serve", "", "address for the inspection HTTP server")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	re := repl.REPL{Log: utils.NewDefaultLogger(level)}
	err := re.Open()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
	defer re.Close()

	ctx := context.Background()
	if *src != "" {
		if _, err := strconv.ParseUint(*src, 16, 64); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Usage: metasync -src 1a [-arbiter 1a] [-dir path]")
			os.Exit(-2)
		}
		line := "open " + *src
		if *arbiter != "" {
			line += " " + *arbiter
		} else if *dir != "" {
			line += " " + *src
		}
		if *dir != "" {
			line += " " + *dir
		}
		startup := []string{line}
		if *listen != "" {
			startup = append(startup, "listen "+*listen)
		}
		if *connect != "" {
			startup = append(startup, "connect "+*connect)
		}
		if *serve != "" {
			startup = append(startup, "serve "+*serve)
		}
		for _, cmd := range startup {
			if err = re.Run(ctx, cmd); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, err.Error())
				os.Exit(-1)
			}
		}
	}

	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
		}
		err = re.REPL(ctx)
	}
}
