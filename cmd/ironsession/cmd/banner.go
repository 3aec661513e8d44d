package cmd

import (
	"fmt"
	"io"
)

const banner = `
  _____                 _____                _             
 |_   _|               / ____|              (_)            
   | |  _ __ ___  _ __| (___   ___  ___ ___ _  ___  _ __  
   | | | '__/ _ \| '_ \\___ \ / _ \/ __/ __| |/ _ \| '_ \ 
  _| |_| | | (_) | | | |___) |  __/\__ \__ \ | (_) | | | |
 |_____|_|  \___/|_| |_|____/ \___||___/___/_|\___/|_| |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Development Credential Issuer - Version %s\x1b[0m\n\n", Version)
}
