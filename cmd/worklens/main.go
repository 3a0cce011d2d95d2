// Command worklens turns facility event streams (gate reads, cafeteria
// transactions, equipment logs) into daily work-activity metrics and org
// rollups.
package main

import "os"

func main() {
	os.Exit(Execute())
}
