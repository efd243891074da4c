package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/microscope-io/mdastore/datasrv"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mdasrv.yml"
	k              = koanf.New(".")
)

// Config holds the server initialization parameters.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Root is the directory whose subdirectories are served as datasets
	Root string `yaml:"Root"`

	// RPS caps requests per second across all clients; 0 disables
	RPS float64 `yaml:"RPS"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Root: ".",
		RPS:  0}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `mdasrv serves stored acquisitions over HTTP.  Any subdirectory of the
configured root that holds a recognized dataset is listed and sliceable,
so clients can browse acquisitions from any programming language.

Usage:
	mdasrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mdasrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server listens at :8000 and serves the working
directory.

Config keys:
- Addr: listen address, e.g. ":8000"
- Root: directory whose subdirectories are the datasets
- RPS:  requests per second allowed across all clients, 0 for unlimited

Routes:
- GET /datasets                    names of recognized datasets
- GET /datasets/{name}             axes, sizes, and the acquisition plan
- GET /datasets/{name}/slice       one slice; axes are query parameters,
                                   e.g. ?p=0&t=1&fmt=png (png, jpg, tiff)`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mdasrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	srv := datasrv.NewServer(c.Root, c.RPS)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, srv.Routes()))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
