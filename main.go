package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loxodon/activitypub"
	"loxodon/db"
	"loxodon/domain"
	"loxodon/metrics"
	"loxodon/util"
	"loxodon/web"

	"github.com/google/uuid"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.NewDB(util.ResolveFilePath("database.db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	serverActor, err := ensureServerActor(database, conf)
	if err != nil {
		log.Fatalln(err)
	}

	// Federation engine wiring: every component is constructed here and
	// handed its dependencies explicitly.
	tracker := activitypub.NewFollowHealthTracker()
	follows := activitypub.NewFollowService(database, conf)
	dispatcher := activitypub.NewDispatcher(database)
	resolver := activitypub.NewActorResolver(database, conf)
	outbox := activitypub.NewOutbox(database, dispatcher, follows, resolver, conf)
	processor := activitypub.NewActivityProcessor(database, resolver, follows, outbox, conf, serverActor.URL)

	inbox := activitypub.NewInboxManager(processor)
	inbox.Start()
	defer inbox.Stop()

	metrics.RegisterInboxPendingGauge(inbox.PendingCount)

	deliveryClient := activitypub.NewDeliveryClient(database, conf)
	deliveryWorker := activitypub.NewDeliveryWorker(database, deliveryClient, tracker, follows, conf)
	deliveryWorker.Start()
	defer deliveryWorker.Stop()

	pruner := activitypub.NewFollowPruner(tracker, follows, conf)
	pruner.Start()
	defer pruner.Stop()

	server := web.NewServer(conf, database, resolver, inbox)

	startServing(server)
}

// ensureServerActor creates the instance-level actor on first run. Its
// URL is the identity inbound activities must never be signed with.
func ensureServerActor(database *db.DB, conf *util.AppConfig) (*domain.Actor, error) {
	err, actor := database.ReadLocalActorByName(util.Name)
	if err == nil && actor != nil {
		return actor, nil
	}

	log.Println("Creating instance actor...")
	keypair := util.GeneratePemKeypair()
	actorURL := web.LocalActorURL(conf, util.Name)

	actor = &domain.Actor{
		Id:             uuid.New(),
		URL:            actorURL,
		PreferredName:  util.Name,
		InboxURI:       actorURL + "/inbox",
		SharedInboxURI: fmt.Sprintf("https://%s/inbox", conf.Conf.Domain),
		FollowersURI:   actorURL + "/followers",
		PublicKeyPem:   keypair.Public,
		PrivateKeyPem:  keypair.Private,
		LastFetchedAt:  time.Now(),
	}

	if err := database.CreateActor(actor); err != nil {
		return nil, fmt.Errorf("failed to create instance actor: %w", err)
	}
	return actor, nil
}

func startServing(server *web.Server) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Router(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping loxodon")
}
