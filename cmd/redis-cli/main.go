// Command redis-cli sends commands to a Redis server.
//
//	redis-cli exec SET greeting hello
//	echo -e "INCR a\nGET a" | redis-cli pipeline --tx
//	redis-cli subscribe news
//	redis-cli bench --concurrency 8 --requests 100000 --rate 5000
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
