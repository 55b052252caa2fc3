package server

// Version of the kuar server.
// This variable can be overridden at build time using:
//
//	go build -ldflags "-X github.com/kuar-io/kuar/server.Version=v1.0.0"
var Version = "dev"
