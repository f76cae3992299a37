package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	_ "net/http/pprof"

	"go.uber.org/zap"
	"nyiyui.ca/rosen"
	"nyiyui.ca/rosen/config"
	"nyiyui.ca/rosen/document"
	"nyiyui.ca/rosen/edit"
	"nyiyui.ca/rosen/engine"
	"nyiyui.ca/rosen/kanban"
	"nyiyui.ca/rosen/ui"
)

func main() {
	defer zap.S().Sync()
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level")
	configPath := flag.String("config", "rosen.json", "path to config file")
	logPath := flag.String("log-file", "rosen.log", "log destination (stderr belongs to the terminal UI)")
	flag.Parse()
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.OutputPaths = []string{*logPath}
	cfg.ErrorOutputPaths = []string{*logPath}
	dev, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(dev)

	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()

	conf := config.Default()
	if data, err := os.ReadFile(*configPath); err == nil {
		conf, err = config.Parse(data)
		if err != nil {
			zap.S().Fatalf("parse %s: %s", *configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		zap.S().Fatalf("read %s: %s", *configPath, err)
	}

	store, err := document.OpenStore(conf.WorkspacePath)
	if err != nil {
		zap.S().Fatalf("open workspace: %s", err)
	}
	defer store.Close()

	m, err := store.Load()
	if errors.Is(err, document.ErrNoDocument) {
		m = rosen.NewMap()
	} else if err != nil {
		zap.S().Fatalf("load workspace: %s", err)
	}

	ed := edit.NewEditor(m, edit.Config{
		Client:       engine.NewClient(conf.EngineURL),
		Store:        store,
		TickInterval: time.Duration(conf.TickMS) * time.Millisecond,
		Frequency:    conf.Frequency,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ed.Run(ctx)

	if conf.KanbanAddr != "" {
		k := kanban.NewServer(kanban.Conf{Views: ed.Views(), Frames: ed.Frames()})
		defer k.Close()
		go func() {
			zap.S().Infow("kanban listening", "addr", conf.KanbanAddr)
			err := http.ListenAndServe(conf.KanbanAddr, k)
			zap.S().Errorf("kanban: %s", err)
		}()
	}

	err = ui.Run(ctx, ui.Conf{Editor: ed, StringlinePath: conf.StringlinePath})
	if err != nil {
		zap.S().Fatalf("ui: %s", err)
	}
}
