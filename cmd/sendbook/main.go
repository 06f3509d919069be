// sendbook delivers a single ebook file to a Kindle address from the command
// line, using the same settings and secret store as the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/delivery"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/secrets"
	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
)

func main() {
	log := logger.New()

	var opts struct {
		To    string `short:"t" long:"to" description:"Kindle destination address (defaults to the saved one)"`
		Title string `long:"title" description:"Subject line for the delivery mail (defaults to the file name)"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	if len(args) != 1 {
		fmt.Println("usage: sendbook [--to address] <path/to/book>")
		os.Exit(1)
	}
	path := args[0]

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	settings := config.NewUserSettings(cfg.ConfigDir)
	secretStore := secrets.NewFileStore(cfg.ConfigDir)
	svc := delivery.NewService(settings, secretStore, nil, events.NewHub())

	destination := opts.To
	if destination == "" {
		destination, err = svc.DefaultDestination()
		if err != nil {
			log.Err(err).Fatal("settings error")
		}
	}
	if destination == "" {
		log.Fatal("no destination address; pass --to or save a default kindle email")
	}

	title := opts.Title
	if title == "" {
		title = path
	}

	result, err := svc.Send(context.Background(), path, destination, title)
	if err != nil {
		log.Err(err).Fatal("delivery error")
	}

	if !result.Success {
		log.Data(logger.Data{"message": result.Message}).Fatal("delivery rejected")
	}
	log.Data(logger.Data{"destination": result.Destination}).Info("delivered")
}
