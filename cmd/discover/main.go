// discover enumerates cloud resources across many accounts, regions and
// resource types with a bounded worker pool and two-phase enrichment.
package main

func main() {
	Execute()
}
