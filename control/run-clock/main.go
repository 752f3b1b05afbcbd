package main

import (
	"context"
	"encoding/json"
	"flag"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/jrockway/shiftreg-clock/control/arbiter"
	"github.com/jrockway/shiftreg-clock/control/clock"
	"github.com/jrockway/shiftreg-clock/control/config"
	"github.com/jrockway/shiftreg-clock/control/display"
	"github.com/jrockway/shiftreg-clock/control/pins"
	"github.com/jrockway/shiftreg-clock/control/screen"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

type status struct {
	Mode    string `json:"mode"`
	Value   int    `json:"value"`
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
	Display string `json:"display"`
}

func serveStatus(a *arbiter.Arbiter, s *screen.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		st := a.Status()
		w.Header().Add("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(&status{
			Mode:    st.Mode.String(),
			Value:   st.Value,
			Minutes: st.Time.Minutes,
			Seconds: st.Time.Seconds,
			Display: s.Text(),
		}); err != nil {
			log.Printf("encoding status: %v", err)
		}
	}
}

func newRouter(a *arbiter.Arbiter, s *screen.Screen) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/display.png", http.StatusFound)
	})
	r.Handle("/display.png", s).Methods("GET")
	r.HandleFunc("/display.txt", s.ServeText).Methods("GET")
	r.HandleFunc("/status.json", serveStatus(a, s)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/debug/requests", trace.Traces)
	r.HandleFunc("/debug/events", trace.Events)
	return r
}

func main() {
	cfg := config.Default()
	if err := cfg.Parse(flag.CommandLine, os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	sim := cfg.Backend == config.BackendSim
	switch {
	case cfg.LogFile != "":
		log.SetOutput(&lumberjack.Logger{Filename: cfg.LogFile, MaxSize: 10, MaxBackups: 3})
	case sim:
		// The terminal belongs to the simulator.
		log.SetOutput(ioutil.Discard)
	}

	var (
		hw       *pins.Hardware
		keyboard *pins.Keyboard
		scr      *screen.Screen
		a        = &arbiter.Arbiter{
			State:     new(clock.State),
			Clock:     clockwork.NewRealClock(),
			Debounce:  cfg.Debounce,
			FullScale: cfg.FullScale,
		}
	)
	if sim {
		keyboard = pins.NewKeyboard()
		scr = screen.New(nil)
		a.Reset, a.Select, a.Volts = keyboard.ResetButton(), keyboard.ModeButton(), keyboard
	} else {
		var err error
		hw, err = pins.Open(cfg)
		if err != nil {
			log.Fatalf("open %s hardware: %v", cfg.Backend, err)
		}
		scr = screen.New(hw.Bus)
		a.Reset, a.Select, a.Volts = hw.Reset, hw.Mode, hw.Volts
	}
	disp := display.New(scr, a.Clock, cfg.Settle)
	a.Display = disp
	log.Printf("display initialized (%s backend)", cfg.Backend)

	ctx, cancel := context.WithCancel(context.Background())

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: cfg.Bind, Handler: newRouter(a, scr)}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	tickDoneCh := make(chan error)
	go func() {
		err := clock.Run(ctx, a.Clock, a.State)
		select {
		case tickDoneCh <- err:
		case <-ctx.Done():
		}
		close(tickDoneCh)
	}()

	loopDoneCh := make(chan error)
	go func() {
		err := a.Run(ctx)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	// A nil channel never delivers, so without the simulator this case is never selected.
	var keyboardDoneCh chan error
	if keyboard != nil {
		keyboardDoneCh = make(chan error)
		go func() {
			err := keyboard.Run(ctx, 50*time.Millisecond, scr.Text)
			select {
			case keyboardDoneCh <- err:
			case <-ctx.Done():
			}
			close(keyboardDoneCh)
		}()
	}

	exitCode := 1
	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-tickDoneCh:
		log.Printf("ticker died: %v", err)
	case err := <-loopDoneCh:
		log.Printf("display loop died: %v", err)
	case err := <-keyboardDoneCh:
		log.Printf("keyboard simulator exited: %v", err)
		if err == pins.ErrQuit {
			exitCode = 0
		}
	case <-sigCh:
		log.Printf("interrupt")
		exitCode = 0
	}
	signal.Stop(sigCh)
	cancel()
	<-loopDoneCh
	if keyboardDoneCh != nil {
		<-keyboardDoneCh
	}

	// Blank the display when exiting, so someone looking at the clock can tell that it is no
	// longer running rather than frozen.
	if err := disp.Blank(); err != nil {
		log.Printf("blank display: %v", err)
	}
	if hw != nil {
		if err := hw.Close(); err != nil {
			log.Printf("release hardware: %v", err)
		}
	}
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	os.Exit(exitCode)
}
