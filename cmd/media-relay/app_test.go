package main

import (
	"testing"

	"github.com/fpang/media-relay/internal/bot"
)

type closeLog []string

type fakeEngine struct{ log *closeLog }

func (e fakeEngine) Close() error {
	*e.log = append(*e.log, "engine")
	return nil
}

type fakeDownloader struct{ log *closeLog }

func (d fakeDownloader) Close() {
	*d.log = append(*d.log, "downloader")
}

func TestShutdown_EngineClosesBeforeDownloads(t *testing.T) {
	var order closeLog
	a := &app{
		engine:     fakeEngine{&order},
		downloader: fakeDownloader{&order},
		dispatcher: bot.NewDispatcher(nil, nil, "relay_bot"),
	}

	a.shutdown()

	if len(order) != 2 || order[0] != "engine" || order[1] != "downloader" {
		t.Errorf("expected engine then downloader, got %v", order)
	}
}
