// Binary spotbot trades one spot pair on RSI and ATR signals, on paper or live.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
