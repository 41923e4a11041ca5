package boot

import (
	"log"
	"os"
	"tourbook/src/catalog"
	"tourbook/src/common"
	"tourbook/src/config"
	"tourbook/src/db"
	"tourbook/src/ledger"
	"tourbook/src/lib"
	"tourbook/src/models"
	"tourbook/src/notify"
	"tourbook/src/orders"
	"tourbook/src/payments"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/saga"

	"gorm.io/gorm"
)

func InitDb() *gorm.DB {
	db := db.GetDb()

	err := db.AutoMigrate(
		&models.Tour{},
		&models.TourSlotCapacity{},
		&models.CapacityHold{},
		&models.PromoCode{},
		&models.Booking{},
		&models.PaymentTransaction{},
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	return db
}

// Services holds the wired domain components shared by the handlers.
type Services struct {
	Catalog  catalog.Catalog
	Promos   promo.Lookup
	Ledger   ledger.Ledger
	Gateway  *payments.Gateway
	Bookings *saga.BookingSaga
	Orders   *orders.OrderSaga
}

func InitServices(db *gorm.DB) *Services {
	cat := catalog.NewGormCatalog(db)
	promos := promo.NewGormLookup(db)
	l := NewLedger(db, catalog.CapacityOf(cat))
	gateway := NewGateway(config.GetPaymentProviders())
	notifier := NewNotifier(config.GetNotifier())

	bookings := saga.NewBookingSaga(saga.Deps{
		Catalog:  cat,
		Promos:   promos,
		Ledger:   l,
		Gateway:  gateway,
		Store:    saga.NewGormStore(db),
		Notifier: notifier,
	}, saga.Config{
		HoldWindow:     config.GetHoldWindow(),
		PaymentTimeout: config.GetPaymentTimeout(),
		Location:       config.GetTourLocation(),
	})
	orderSaga := orders.NewOrderSaga(orders.Deps{
		Catalog:  cat,
		Promos:   promos,
		Stock:    orders.NewGormStock(db),
		Gateway:  gateway,
		Store:    orders.NewGormStore(db),
		Notifier: notifier,
	}, orders.Config{
		Rates: pricing.OrderRates{
			TaxBps:           config.GetTaxRateBps(),
			ShippingFlat:     config.GetShippingFlatFee(),
			FreeShippingOver: config.GetFreeShippingOver(),
		},
		PaymentTimeout: config.GetPaymentTimeout(),
	})

	return &Services{
		Catalog:  cat,
		Promos:   promos,
		Ledger:   l,
		Gateway:  gateway,
		Bookings: bookings,
		Orders:   orderSaga,
	}
}

// NewLedger picks the capacity ledger named by LEDGER_BACKEND.
func NewLedger(db *gorm.DB, capacity ledger.CapacityFunc) ledger.Ledger {
	opts := ledger.Options{HoldWindow: config.GetHoldWindow()}
	switch config.GetLedgerBackend() {
	case "redis":
		if rdb := lib.GetRedisClient(); rdb != nil {
			return ledger.NewRedisLedger(rdb, capacity, opts)
		}
		log.Println("[CapacityLedger] Redis unavailable, falling back to database ledger")
	case "memory":
		return ledger.NewMemoryLedger(capacity, opts)
	}
	return ledger.NewGormLedger(db, capacity, opts)
}

func NewGateway(providers []string) *payments.Gateway {
	gateway := payments.NewGateway(payments.DefaultRetryPolicy)
	for _, name := range providers {
		rail := payments.RailConfig{
			Name:    name,
			BaseURL: config.GetRailBaseURL(name),
			APIKey:  config.GetRailAPIKey(name),
		}
		switch name {
		case payments.PROVIDER_CARD:
			gateway.Register(payments.NewStripeAdapter(lib.GetStripeClient()))
		case payments.PROVIDER_MPESA, payments.PROVIDER_AIRTEL:
			gateway.Register(payments.NewMobileMoneyAdapter(rail))
		case payments.PROVIDER_BANK_TRANSFER:
			gateway.Register(payments.NewBankTransferAdapter(rail))
		default:
			log.Printf("[PaymentGateway] Unknown provider %q, skipping\n", name)
			continue
		}
		if name != payments.PROVIDER_CARD && rail.BaseURL == "" {
			log.Printf("[PaymentGateway] %s has no base URL configured\n", name)
		}
	}
	return gateway
}

// NewNotifier builds the notifier chain from a comma separated list of
// smtp, mailer, sqs and kafka.
func NewNotifier(kinds string) notify.Notifier {
	from := os.Getenv("SMTP_FROM")
	fromName := os.Getenv("SMTP_FROM_NAME")
	var chain notify.Multi
	for _, kind := range splitList(kinds) {
		switch kind {
		case "smtp":
			chain = append(chain, notify.NewMailNotifier(from, fromName))
		case "mailer":
			chain = append(chain, notify.NewQueuedMailNotifier(from, fromName))
		case "sqs":
			chain = append(chain, notify.NewQueueNotifier(config.GetBookingEventsTopic()))
		case "kafka":
			chain = append(chain, notify.NewKafkaNotifier("tourbook-api", config.GetBookingEventsTopic()))
		case "none":
		default:
			log.Printf("[Notifier] Unknown notifier %q, skipping\n", kind)
		}
	}
	if len(chain) == 0 {
		return notify.Noop{}
	}
	return chain
}

func InitScheduler(s *Services) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	if _, err := lib.CreateCronJob("hold-sweeper", common.ExpireReservations, config.GetHoldSweepInterval(), s.Bookings, s.Ledger); err != nil {
		log.Printf("Error scheduling hold sweeper: %s\n", err.Error())
		return
	}
	if _, err := lib.CreateCronJob("order-sweeper", common.ExpireOrders, config.GetHoldSweepInterval(), s.Orders); err != nil {
		log.Printf("Error scheduling order sweeper: %s\n", err.Error())
		return
	}
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	err = sched.Shutdown()
	if err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
		return
	}
}
