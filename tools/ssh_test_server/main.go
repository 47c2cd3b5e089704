package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	srv "mast-uitest/tools/sshserv"
)

func main() {
	addr := flag.String("listen", "127.0.0.1:20222", "listen address")
	host := flag.String("hostname", "dp1", "hostname shown in the prompt")
	user := flag.String("user", "admin", "login user")
	pass := flag.String("password", "", "login password (empty accepts any)")
	login := flag.Bool("login", true, "ask for login and password in-band")
	flag.Parse()

	s, err := srv.Start(*addr, srv.Options{Hostname: *host, User: *user, Password: *pass, InBandLogin: *login})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "failed to start appliance emulator:", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintf(os.Stderr, "appliance emulator %s listening on %s\n", *host, s.Addr())
	defer s.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
