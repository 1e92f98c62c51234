// Command importingredients loads the ingredient catalogue from a CSV file of
// "name,measurement_unit" rows. Pairs already present are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"foodgram-backend/cmd/config"
	migration "foodgram-backend/cmd/database/migrate"
	"foodgram-backend/internal/utils"
	"foodgram-backend/pkg/ingredient"
)

func main() {
	path := flag.String("file", "data/ingredients.csv", "path to the ingredients CSV file")
	flag.Parse()

	utils.LoadConfig()

	db, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("error connecting to database: %v", err)
	}
	if err := migration.Migrate(db); err != nil {
		log.Fatalf("error running migrations: %v", err)
	}

	file, err := os.Open(*path)
	if err != nil {
		log.Fatalf("error opening %s: %v", *path, err)
	}
	defer file.Close()

	service := ingredient.NewIngredientService(ingredient.NewIngredientRepository(db))
	inserted, err := service.ImportCSV(context.Background(), file)
	if err != nil {
		log.Fatalf("error importing ingredients: %v", err)
	}

	fmt.Printf("imported %d ingredients from %s\n", inserted, *path)
}
