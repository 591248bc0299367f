package main

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
)

// adminStatus mirrors the console `status` command for scrapers.
type adminStatus struct {
	Users      int `json:"users"`
	Groups     int `json:"groups"`
	Files      int `json:"files"`
	PeersKnown int `json:"peers_known"`
}

// adminRouter builds the read-only HTTP surface. It never mutates
// registry state.
func (t *Tracker) adminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		users, groups, files, peers := t.counts()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(adminStatus{
			Users:      users,
			Groups:     groups,
			Files:      files,
			PeersKnown: peers,
		})
	}).Methods(http.MethodGet)
	return r
}

func (t *Tracker) serveAdmin(addr string) {
	glog.Infof("admin surface on %s", addr)
	if err := http.ListenAndServe(addr, t.adminRouter()); err != nil {
		glog.Errorf("admin server: %v", err)
	}
}
