// Package hosts resolves host names given to the session manager into dial
// addresses and optional per-host key paths, using a YAML inventory file.
//
// Example inventory:
//
//	hosts:
//	  - name: build-box
//	    address: 10.0.0.5
//	    port: 2222
//	    key_path: /etc/shellmux/build-box.key
//
// Hosts that are not listed dial <host>:22 (or the port embedded in the host
// string) with the default key.
package hosts

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither the inventory nor the host string name a port.
const DefaultPort = 22

// Host is one inventory entry.
type Host struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	KeyPath string `yaml:"key_path"`
}

type file struct {
	Hosts []Host `yaml:"hosts"`
}

// Inventory is an immutable set of host entries keyed by name. The zero value
// and a nil *Inventory are both usable and resolve every host directly.
type Inventory struct {
	hosts map[string]Host
}

// Load reads an inventory from path. An empty path yields an empty inventory.
func Load(path string) (*Inventory, error) {
	if path == "" {
		return &Inventory{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML inventory and validates its entries.
func Parse(data []byte) (*Inventory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hosts file: %w", err)
	}

	inv := &Inventory{hosts: make(map[string]Host, len(f.Hosts))}
	for i, h := range f.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("hosts[%d]: name is empty", i)
		}
		if _, dup := inv.hosts[h.Name]; dup {
			return nil, fmt.Errorf("hosts[%d]: duplicate name %q", i, h.Name)
		}
		if h.Port < 0 || h.Port > 65535 {
			return nil, fmt.Errorf("hosts[%d]: invalid port %d", i, h.Port)
		}
		if h.Address == "" {
			h.Address = h.Name
		}
		if h.Port == 0 {
			h.Port = DefaultPort
		}
		inv.hosts[h.Name] = h
	}
	return inv, nil
}

// Len returns the number of inventory entries.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.hosts)
}

// Resolve returns the dial address for host and the key path configured for
// it (empty when the default key applies).
func (inv *Inventory) Resolve(host string) (addr, keyPath string) {
	if inv != nil {
		if h, ok := inv.hosts[host]; ok {
			return net.JoinHostPort(h.Address, strconv.Itoa(h.Port)), h.KeyPath
		}
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, ""
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort)), ""
}
