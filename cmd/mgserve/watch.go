// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/z5labs/mgbridge/internal/fixedpool"
	"github.com/z5labs/mgbridge/option"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"github.com/fsnotify/fsnotify"
)

type optionSetter interface {
	SetOption(name, value string) error
}

// watchConfig re-reads the config file whenever it changes and applies
// changed option values to the running server.
func watchConfig(path string, srv optionSetter, current option.Table, log *slog.Logger) fixedpool.Task {
	return func(ctx context.Context) error {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer w.Close()

		// Editors often replace the file instead of writing it, which
		// only the directory watch sees.
		err = w.Add(filepath.Dir(path))
		if err != nil {
			return err
		}
		target := filepath.Clean(path)
		log.InfoContext(ctx, "watching config", slogfield.String("path", target))

		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(e.Name) != target || !(e.Op.Has(fsnotify.Write) || e.Op.Has(fsnotify.Create)) {
					continue
				}
				_, next, err := loadConfig(path)
				if err != nil {
					log.WarnContext(ctx, "ignoring unreadable config", slogfield.Error(err))
					continue
				}
				current = applyOptions(ctx, srv, current, next, log)
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				log.WarnContext(ctx, "config watch error", slogfield.Error(err))
			}
		}
	}
}

// applyOptions sets every option whose value differs between prev and
// next and returns the table now in effect. Rejected values keep their
// previous setting.
func applyOptions(ctx context.Context, srv optionSetter, prev, next option.Table, log *slog.Logger) option.Table {
	applied := prev.Clone()
	for _, name := range next.Names() {
		value := next[name]
		if old, ok := prev[name]; ok && old == value {
			continue
		}
		err := srv.SetOption(name, value)
		if err != nil {
			log.WarnContext(ctx, "option not applied", slogfield.Option(name, value), slogfield.Error(err))
			continue
		}
		applied[name] = value
	}
	for _, name := range prev.Names() {
		if _, ok := next[name]; !ok {
			log.InfoContext(ctx, "removed option keeps its value until restart", slogfield.String("option", name))
		}
	}
	return applied
}
