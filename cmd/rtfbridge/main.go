// Command rtfbridge converts between RTF and Markdown, imports other
// document formats and runs the HTTP service.
package main

func main() {
	Execute()
}
