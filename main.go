package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/deemkeen/tusk/app"
	"github.com/deemkeen/tusk/util"
)

func main() {
	showVersion := flag.Bool("v", false, "Print version information")
	showConfig := flag.Bool("print-config", false, "Print the resolved configuration and exit")
	pprofAddr := flag.String("pprof-addr", "localhost:6060", "Listen address of the pprof server when withPprof is set")
	flag.Parse()

	if *showVersion {
		fmt.Println(util.GetNameAndVersion())
		return
	}

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}
	if *showConfig {
		fmt.Println(util.PrettyPrint(conf))
		return
	}

	if err := run(conf, *pprofAddr); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run(conf *util.AppConfig, pprofAddr string) error {
	util.SetupLogging(conf.Conf.WithJournald)
	log.Printf("%s starting on %s:%d", util.GetNameAndVersion(), conf.Conf.Host, conf.Conf.HttpPort)

	if conf.Conf.WithPprof {
		go func() {
			log.Printf("pprof server listening on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	application, err := app.New(conf)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Start()
}
