// Command supervisorctl is a thin client over supervisord's HTTP control
// surface (§6 CLI, §4.H). It never talks to processes directly; every
// verb is a single request against the running daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

func main() {
	addr := flag.String("s", "http://127.0.0.1:9001", "supervisord control-surface base URL")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: supervisorctl [-s url] <list|start NAME|stop NAME|startall|stopall|shutdown|restart|reload>")
		os.Exit(2)
	}

	if err := dispatch(*addr, args); err != nil {
		fmt.Fprintln(os.Stderr, "supervisorctl:", err)
		os.Exit(2)
	}
}

func dispatch(base string, args []string) error {
	cmd := args[0]
	switch cmd {
	case "list":
		return call(base, "GET", "/api/v1/processes", true)
	case "start":
		return requireName(args, func(name string) error {
			return call(base, "POST", "/api/v1/processes/"+name+"/start", false)
		})
	case "stop":
		return requireName(args, func(name string) error {
			return call(base, "POST", "/api/v1/processes/"+name+"/stop", false)
		})
	case "startall":
		return call(base, "POST", "/api/v1/start", true)
	case "stopall":
		return call(base, "POST", "/api/v1/stop", true)
	case "shutdown":
		return call(base, "POST", "/api/v1/shutdown", false)
	case "restart":
		return call(base, "POST", "/api/v1/restart", false)
	case "reload":
		return call(base, "POST", "/api/v1/reload", false)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func requireName(args []string, f func(string) error) error {
	if len(args) < 2 {
		return fmt.Errorf("%s requires a process name", args[0])
	}
	return f(args[1])
}

func call(base, method, path string, printBody bool) error {
	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(body))
	}
	if printBody && len(body) > 0 {
		var pretty any
		if err := json.Unmarshal(body, &pretty); err == nil {
			enc, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(enc))
			return nil
		}
		fmt.Println(string(body))
	}
	return nil
}
