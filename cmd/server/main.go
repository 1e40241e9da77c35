package main

import (
	"github.com/flowyoga/coach-backend/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
