package main

import (
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/repository"
)

// Repositories holds every repository, all backed by the same document store.
type Repositories struct {
	Message repository.MessageRepository
	Pin     repository.PinRepository
	Typing  repository.TypingRepository
	Profile repository.ProfileRepository
}

func initRepositories(store docstore.Store) *Repositories {
	return &Repositories{
		Message: repository.NewDocMessageRepo(store),
		Pin:     repository.NewDocPinRepo(store),
		Typing:  repository.NewDocTypingRepo(store),
		Profile: repository.NewDocProfileRepo(store),
	}
}
