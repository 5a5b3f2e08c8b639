package chains

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "chains")
