package handlers

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "handlers")
