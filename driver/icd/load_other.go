// Copyright 2022 Gustavo C. Viegas. All rights reserved.

//go:build !cgo || !unix

package icd

import "github.com/gviegas/present/driver"

func load(string) (driver.Bridge, func(), error) {
	return nil, nil, driver.ErrNotInstalled
}
