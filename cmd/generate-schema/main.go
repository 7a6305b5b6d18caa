// Command generate-schema writes the JSON schema of the unfsd
// configuration file, for editor completion of config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/pflag"

	"github.com/souravgh/unfs2go/pkg/config"
)

func main() {
	out := pflag.StringP("output", "o", "config.schema.json", "schema file to write (- for stdout)")
	pflag.Parse()

	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := r.Reflect(&config.Config{})
	schema.Title = "unfsd configuration"
	schema.Description = "Exports, listeners, backend and caches of the unfsd NFSv3 server"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fail("marshal schema: %v", err)
	}
	data = append(data, '\n')

	if *out == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		fail("write %s: %v", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "generate-schema: "+format+"\n", args...)
	os.Exit(1)
}
