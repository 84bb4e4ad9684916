package plan

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPlans is the plan table used when none is configured: shift hours to price.
const DefaultPlans = "6=400,12=500,24=600"

var ErrEmptyTable = errors.New("plan table is empty")

// Plan is a single purchasable shift.
type Plan struct {
	Key   string `yaml:"key"`
	Price int    `yaml:"price"`
}

// Table maps plan keys to prices. Key matching is exact.
type Table struct {
	plans  []Plan
	prices map[string]int
}

// New builds a table, rejecting empty or duplicate keys and non-positive prices.
func New(plans []Plan) (*Table, error) {
	if len(plans) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{prices: make(map[string]int, len(plans))}
	for _, p := range plans {
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return nil, fmt.Errorf("plan key is empty")
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("plan %q: price must be positive, got %d", p.Key, p.Price)
		}
		if _, dup := t.prices[p.Key]; dup {
			return nil, fmt.Errorf("plan %q defined twice", p.Key)
		}
		t.prices[p.Key] = p.Price
		t.plans = append(t.plans, p)
	}
	return t, nil
}

// Parse reads a table from "key=price,key=price".
func Parse(s string) (*Table, error) {
	var plans []Plan
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, price, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("plan %q: expected key=price", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("plan %q: invalid price: %w", part, err)
		}
		plans = append(plans, Plan{Key: key, Price: n})
	}
	return New(plans)
}

type file struct {
	Plans []Plan `yaml:"plans"`
}

// LoadFile reads a YAML document of the form:
//
//	plans:
//	  - key: "6"
//	    price: 400
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	return New(f.Plans)
}

// Price returns the price for key.
func (t *Table) Price(key string) (int, bool) {
	p, ok := t.prices[key]
	return p, ok
}

// Keys returns plan keys in configuration order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.plans))
	for i, p := range t.plans {
		keys[i] = p.Key
	}
	return keys
}
