package main

import (
	"os"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

type creds struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// parseCreds tries to parse a YAML file with creds; example file contents:
//
//	api_key: foofoofoofoo
//	secret_key: YmFyYmFyYmFyYmFy
func parseCreds(filename string) (*creds, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Annotatef(err, "reading creds file %q", filename)
	}

	ret := creds{}
	if err := yaml.Unmarshal(data, &ret); err != nil {
		return nil, errors.Annotatef(err, "parsing YAML from %q", filename)
	}

	return &ret, nil
}
