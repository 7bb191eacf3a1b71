/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/symple/relay/server/logs"
	"github.com/symple/relay/server/store"
	jcr "github.com/tinode/jsonco"
)

const (
	// How long a client has to announce before it is dropped.
	defaultAnnounceTimeout = 5 * time.Second
)

var globals struct {
	hub          *Hub
	sessionStore *SessionStore
	// External session records; nil when authentication is disabled.
	sessions store.Sessions
	// Inter-process broadcast; nil unless clustered.
	adapter *clusterAdapter
	// Address scheme in use.
	codec addressCodec

	authRequired    bool
	dynamicRooms    bool
	announceTimeout time.Duration
	// Session record lifetime; refresh disabled when <= 0.
	sessionTTL time.Duration

	statsUpdate chan *varUpdate
}

type storeConfig struct {
	// "redis" or "jwt".
	Type string `json:"type"`
	store.RedisConfig
	store.JWTConfig
}

type configType struct {
	// Address:port to listen on.
	Listen string `json:"listen"`
	// TLS configuration, off by default.
	TLS *TlsConfig `json:"tls"`
	// Require a stored session to announce; anonymous access otherwise.
	Authentication bool `json:"authentication"`
	// Address scheme: "flat" (user|id) or "group" (user@group/id).
	Addressing string `json:"addressing"`
	// Let clients join and leave ad hoc rooms.
	DynamicRooms bool `json:"dynamic_rooms"`
	// Milliseconds a client may stay connected without announcing.
	AnnounceTimeoutMs int `json:"announce_timeout_ms"`
	// Session record lifetime in minutes; -1 disables refreshing.
	SessionTTL int `json:"session_ttl"`
	// Share fan-out with other server processes over redis pub/sub.
	Cluster bool `json:"cluster"`
	// Path to expose expvar counters at, "-" to disable.
	Expvar string `json:"expvar"`

	Store storeConfig `json:"store"`
}

func main() {
	logs.Init(os.Stdout)

	var configfile = flag.String("config", "./relay.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	var pprofUrl = flag.String("pprof_url", "", "Debugging only! URL path for exposing profiling info. Disabled if not set.")
	flag.Parse()

	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Error.Fatal("Failed to read config file: ", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Error.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	globals.codec = codecByName(config.Addressing)
	globals.authRequired = config.Authentication
	globals.dynamicRooms = config.DynamicRooms
	globals.announceTimeout = defaultAnnounceTimeout
	if config.AnnounceTimeoutMs > 0 {
		globals.announceTimeout = time.Duration(config.AnnounceTimeoutMs) * time.Millisecond
	}
	if config.SessionTTL > 0 {
		globals.sessionTTL = time.Duration(config.SessionTTL) * time.Minute
	}

	if config.Authentication {
		var err error
		switch config.Store.Type {
		case "", "redis":
			globals.sessions, err = store.NewRedis(&config.Store.RedisConfig)
		case "jwt":
			globals.sessions, err = store.NewJWT(&config.Store.JWTConfig)
		default:
			logs.Error.Fatal("Unknown store type: ", config.Store.Type)
		}
		if err != nil {
			logs.Error.Fatal("Failed to open session store: ", err)
		}
		defer globals.sessions.Close()
	}

	mux := http.NewServeMux()
	statsInit(mux, config.Expvar)
	servePprof(mux, *pprofUrl)

	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()

	if config.Cluster {
		adapter, err := newClusterAdapter(&config.Store.RedisConfig)
		if err != nil {
			logs.Error.Fatal("Failed to join cluster: ", err)
		}
		globals.adapter = adapter
	}

	mux.HandleFunc("/v0/channels", serveWebSocket)

	if err := listenAndServe(config.Listen, mux, config.TLS, signalHandler()); err != nil {
		logs.Error.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}
